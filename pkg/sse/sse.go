// Package sse 实现聊天流的 "data: <payload>" 帧格式。
//
// 每个事件以空行结束；包含换行的片段拆成多行 data，读取端按 "\n" 重新拼接。
// 成功结束时发送 [DONE]，出错时发送 "Error: <message>"。
//
// 终止负载与普通片段共用同一种帧，协议中没有转义：内容恰好为 [DONE] 或以 "Error: "
// 开头的片段，在读取端与终止事件无法区分。
package sse

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// Done 是成功结束的哨兵负载。
	Done = "[DONE]"
	// ErrorPrefix 是错误事件负载的前缀。
	ErrorPrefix = "Error: "
)

// Writer 把事件写入底层流，并在每个事件后尝试 Flush。
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Event 写出一个负载为 payload 的事件。
func (sw *Writer) Event(payload string) error {
	var b strings.Builder
	for _, line := range strings.Split(payload, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if _, err := io.WriteString(sw.w, b.String()); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

func (sw *Writer) Done() error {
	return sw.Event(Done)
}

func (sw *Writer) Error(msg string) error {
	return sw.Event(ErrorPrefix + msg)
}

// ReadEvents 解析一个完整的流，返回每个事件的负载。非 data 行被忽略。
func ReadEvents(r io.Reader) ([]string, error) {
	var (
		events  []string
		current []string
		inEvent bool
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if inEvent {
				events = append(events, strings.Join(current, "\n"))
				current, inEvent = nil, false
			}
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimPrefix(line, "data:")
		data = strings.TrimPrefix(data, " ")
		current = append(current, data)
		inEvent = true
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("read sse stream: %w", err)
	}
	if inEvent {
		events = append(events, strings.Join(current, "\n"))
	}
	return events, nil
}
