package service

import "errors"

// 业务层错误，handler 据此映射 HTTP 状态码。
var (
	// ErrInvalidInput 上传内容为空、缺少文件或格式不支持，在任何持久化之前返回。
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound 文档不存在或调用者无权访问，二者不做区分。
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyProcessing 同一文档已有一次索引在进行或已结束。
	ErrAlreadyProcessing = errors.New("document is already being processed")
	// ErrGeneration 生成服务在流中途失败。
	ErrGeneration = errors.New("generation failed")
)
