// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask represents the data structure for a document ingestion job.
// 原始字节已先行写入对象存储，任务只携带对象键。
type IngestTask struct {
	FileMD5   string `json:"file_md5"`
	ObjectKey string `json:"object_key"`
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
}
