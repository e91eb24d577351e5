package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// frameSink 接收解析出的帧。
type frameSink interface {
	Event(name string, data []byte)
	Heartbeat()
}

const maxLine = 1 << 20

// parse 逐行读取 text/event-stream，直到 r 结束或出错。
// 注释行（":" 开头）立即作为心跳上报；空行派发已累积的事件，无 event 字段时事件名为 "message"。
// id/retry 字段被忽略。
func parse(r io.Reader, sink frameSink) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	var (
		name string
		data bytes.Buffer
		has  bool
	)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			if has {
				if name == "" {
					name = "message"
				}
				sink.Event(name, bytes.Clone(data.Bytes()))
			}
			name, has = "", false
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			sink.Heartbeat()
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if has {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			has = true
		}
	}
	return sc.Err()
}
