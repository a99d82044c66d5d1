package model

// Chunk 是分块器产出的临时结构：一段限定长度、可重叠的原文窗口。
// 向量在索引阶段才被填充，分块器本身不关心 embedding。
type Chunk struct {
	Text     string `json:"text"`
	FileName string `json:"filename"`
	Seq      int    `json:"seq"`
}

// IndexEntry 代表存储在向量索引中的文档分块结构。
type IndexEntry struct {
	VectorID     string    `json:"vector_id"` // 唯一标识，例如 fileMd5 + seq
	FileName     string    `json:"filename"`
	FileMD5      string    `json:"file_md5"`
	Seq          int       `json:"seq"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"` // 文本内容的向量表示
	ModelVersion string    `json:"model_version"`
}

// RetrievedChunk 定义了返回给检索调用方的结果结构。
// Score 已被归一化到 [0,1]，1 表示完全相同。
type RetrievedChunk struct {
	FileName string  `json:"filename"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}
