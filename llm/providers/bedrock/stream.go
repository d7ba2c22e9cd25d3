// =============================================================================
// Bedrock 响应流解码 / 🌊
// =============================================================================
// invoke-with-response-stream 使用 application/vnd.amazon.eventstream 二进制
// 帧格式：prelude（总长度 + 头部长度 + CRC）、头部键值对、payload、消息 CRC。
// 事件 payload 是 {"bytes": base64}，解码后为模型增量事件 JSON。
// =============================================================================

package bedrock

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"

	"github.com/BaSui01/llmgate/llm"
)

// 帧头部值类型编码
const (
	hdrTypeBoolTrue  = 0
	hdrTypeBoolFalse = 1
	hdrTypeByte      = 2
	hdrTypeShort     = 3
	hdrTypeInt       = 4
	hdrTypeLong      = 5
	hdrTypeBytes     = 6
	hdrTypeString    = 7
	hdrTypeTimestamp = 8
	hdrTypeUUID      = 9
)

// maxFrameSize 限制单帧大小，防御异常输入
const maxFrameSize = 16 << 20

// frame 是一个解码后的事件流帧
type frame struct {
	headers map[string]string
	payload []byte
}

// chunkPayload 是 event-type=chunk 的帧 payload
type chunkPayload struct {
	Bytes []byte `json:"bytes"`
}

// readFrame 读取并校验一个完整帧
func readFrame(r *bufio.Reader) (*frame, error) {
	var prelude [12]byte
	if _, err := io.ReadFull(r, prelude[:]); err != nil {
		return nil, err
	}

	totalLen := binary.BigEndian.Uint32(prelude[0:4])
	headersLen := binary.BigEndian.Uint32(prelude[4:8])
	preludeCRC := binary.BigEndian.Uint32(prelude[8:12])

	if crc32.ChecksumIEEE(prelude[:8]) != preludeCRC {
		return nil, errors.New("eventstream: prelude checksum mismatch")
	}
	if totalLen > maxFrameSize || totalLen < 16 || headersLen > totalLen-16 {
		return nil, fmt.Errorf("eventstream: invalid frame length %d/%d", totalLen, headersLen)
	}

	rest := make([]byte, totalLen-12)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	msgCRC := binary.BigEndian.Uint32(rest[len(rest)-4:])
	crc := crc32.ChecksumIEEE(prelude[:])
	crc = crc32.Update(crc, crc32.IEEETable, rest[:len(rest)-4])
	if crc != msgCRC {
		return nil, errors.New("eventstream: message checksum mismatch")
	}

	headers, err := parseHeaders(rest[:headersLen])
	if err != nil {
		return nil, err
	}
	return &frame{
		headers: headers,
		payload: rest[headersLen : len(rest)-4],
	}, nil
}

// parseHeaders 解析帧头部，仅保留字符串值（事件路由只用到字符串头）
func parseHeaders(data []byte) (map[string]string, error) {
	headers := make(map[string]string)
	for len(data) > 0 {
		nameLen := int(data[0])
		if len(data) < 2+nameLen {
			return nil, errors.New("eventstream: truncated header name")
		}
		name := string(data[1 : 1+nameLen])
		valType := data[1+nameLen]
		data = data[2+nameLen:]

		switch valType {
		case hdrTypeBoolTrue, hdrTypeBoolFalse:
			// 无值
		case hdrTypeByte:
			if len(data) < 1 {
				return nil, errors.New("eventstream: truncated header value")
			}
			data = data[1:]
		case hdrTypeShort:
			if len(data) < 2 {
				return nil, errors.New("eventstream: truncated header value")
			}
			data = data[2:]
		case hdrTypeInt:
			if len(data) < 4 {
				return nil, errors.New("eventstream: truncated header value")
			}
			data = data[4:]
		case hdrTypeLong, hdrTypeTimestamp:
			if len(data) < 8 {
				return nil, errors.New("eventstream: truncated header value")
			}
			data = data[8:]
		case hdrTypeUUID:
			if len(data) < 16 {
				return nil, errors.New("eventstream: truncated header value")
			}
			data = data[16:]
		case hdrTypeBytes, hdrTypeString:
			if len(data) < 2 {
				return nil, errors.New("eventstream: truncated header value")
			}
			valLen := int(binary.BigEndian.Uint16(data[:2]))
			if len(data) < 2+valLen {
				return nil, errors.New("eventstream: truncated header value")
			}
			if valType == hdrTypeString {
				headers[name] = string(data[2 : 2+valLen])
			}
			data = data[2+valLen:]
		default:
			return nil, fmt.Errorf("eventstream: unknown header value type %d", valType)
		}
	}
	return headers, nil
}

// streamEvents 把帧序列翻译为 StreamChunk 通道
// message_stop 后发送恰好一个 IsFinal 块并关闭通道；
// 中途错误以 Err 块形式发送后关闭。
func streamEvents(ctx context.Context, body io.ReadCloser, providerName string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		reader := bufio.NewReader(body)
		var usage llm.TokenUsage
		finished := false

		emit := func(chunk llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}
		fail := func(e *llm.Error) {
			emit(llm.StreamChunk{Err: e})
		}

		for {
			fr, err := readFrame(reader)
			if err != nil {
				if err == io.EOF && finished {
					return
				}
				if ctx.Err() != nil {
					return
				}
				fail(&llm.Error{
					Code: llm.ErrUpstreamError, Message: fmt.Sprintf("stream interrupted: %v", err),
					HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
				})
				return
			}

			if fr.headers[":message-type"] == "exception" {
				fail(&llm.Error{
					Code:       llm.ErrUpstreamError,
					Message:    fmt.Sprintf("%s: %s", fr.headers[":exception-type"], string(fr.payload)),
					HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: providerName,
				})
				return
			}
			if fr.headers[":event-type"] != "chunk" {
				continue
			}

			var cp chunkPayload
			if err := json.Unmarshal(fr.payload, &cp); err != nil {
				fail(&llm.Error{
					Code: llm.ErrResponseParse, Message: fmt.Sprintf("malformed stream chunk: %v", err),
					HTTPStatus: http.StatusBadGateway, Provider: providerName,
				})
				return
			}

			var ev streamEvent
			if err := json.Unmarshal(cp.Bytes, &ev); err != nil {
				fail(&llm.Error{
					Code: llm.ErrResponseParse, Message: fmt.Sprintf("malformed stream event: %v", err),
					HTTPStatus: http.StatusBadGateway, Provider: providerName,
				})
				return
			}

			switch ev.Type {
			case "message_start":
				usage.PromptTokens = ev.Message.Usage.InputTokens
			case "content_block_delta":
				if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
					if !emit(llm.StreamChunk{DeltaText: ev.Delta.Text}) {
						return
					}
				}
			case "message_delta":
				usage.CompletionTokens = ev.Usage.OutputTokens
			case "message_stop":
				finished = true
				u := usage
				if !emit(llm.StreamChunk{IsFinal: true, Usage: &u}) {
					return
				}
				return
			}
		}
	}()
	return ch
}

// encodeFrame 按事件流格式编码一个帧，供测试与回放使用
func encodeFrame(headers map[string]string, payload []byte) []byte {
	var hdr []byte
	for name, value := range headers {
		hdr = append(hdr, byte(len(name)))
		hdr = append(hdr, name...)
		hdr = append(hdr, hdrTypeString)
		hdr = binary.BigEndian.AppendUint16(hdr, uint16(len(value)))
		hdr = append(hdr, value...)
	}

	totalLen := 12 + len(hdr) + len(payload) + 4
	buf := make([]byte, 0, totalLen)
	buf = binary.BigEndian.AppendUint32(buf, uint32(totalLen))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(hdr)))
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	buf = append(buf, hdr...)
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf
}

// EncodeChunkEvent 把事件 JSON 包装为 chunk 帧，主要用于测试服务器
func EncodeChunkEvent(eventJSON []byte) []byte {
	payload, _ := json.Marshal(chunkPayload{Bytes: eventJSON})
	return encodeFrame(map[string]string{
		":message-type": "event",
		":event-type":   "chunk",
		":content-type": "application/json",
	}, payload)
}
