package dialect

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdentifier(identifier string, quote string) string {
	return quote + strings.ReplaceAll(identifier, quote, quote+quote) + quote
}

// literal 通用字面量，布尔和二进制的写法由调用方决定
func literal(value any, boolean func(bool) string, binary func([]byte) string) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return quoteString(v)
	case []byte:
		return binary(v)
	case bool:
		return boolean(v)
	case time.Time:
		return quoteString(v.Format("2006-01-02 15:04:05.999999"))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		return quoteString(v.String())
	}
	return fmt.Sprint(value)
}

func numericBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func hexBinary(b []byte) string {
	return "X'" + hex.EncodeToString(b) + "'"
}
