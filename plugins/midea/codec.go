package midea

import (
	"bytes"
	"fmt"
	"strconv"
)

// EncodeOrder renders raw command bytes as the comma separated signed decimal
// text the relay endpoint expects (0xFF -> "-1").
func EncodeOrder(raw []byte) []byte {
	var buf bytes.Buffer
	for i, b := range raw {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(int8(b))))
	}
	return buf.Bytes()
}

// DecodeReply reverses EncodeOrder.
func DecodeReply(text []byte) ([]byte, error) {
	if len(text) == 0 {
		return []byte{}, nil
	}
	tokens := bytes.Split(text, []byte{','})
	out := make([]byte, 0, len(tokens))
	for _, token := range tokens {
		value, err := strconv.Atoi(string(bytes.TrimSpace(token)))
		if err != nil {
			return nil, fmt.Errorf("decode reply token %q: %w", token, err)
		}
		if value < -128 || value > 255 {
			return nil, fmt.Errorf("decode reply token %d out of byte range", value)
		}
		if value < 0 {
			value += 256
		}
		out = append(out, byte(value))
	}
	return out, nil
}
