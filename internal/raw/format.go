package raw

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// FormatReply renders a command result as newline-terminated text:
//
//	+value   status or bulk string
//	:n       integer
//	,f       double
//	#t / #f  boolean
//	$-1      nil
//	-msg     error reply
//	*n       array header, followed by each element
//	%n       map header, followed by each key and value
func FormatReply(val interface{}, err error) string {
	var sb strings.Builder
	if err != nil {
		if errors.Is(err, redis.Nil) {
			sb.WriteString("$-1\n")
		} else {
			writeError(&sb, err.Error())
		}
		return sb.String()
	}
	writeValue(&sb, val)
	return sb.String()
}

func writeValue(sb *strings.Builder, val interface{}) {
	switch v := val.(type) {
	case nil:
		sb.WriteString("$-1\n")
	case string:
		sb.WriteString("+")
		sb.WriteString(v)
		sb.WriteString("\n")
	case []byte:
		sb.WriteString("+")
		sb.Write(v)
		sb.WriteString("\n")
	case int64:
		sb.WriteString(":")
		sb.WriteString(strconv.FormatInt(v, 10))
		sb.WriteString("\n")
	case int:
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(v))
		sb.WriteString("\n")
	case float64:
		sb.WriteString(",")
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		sb.WriteString("\n")
	case bool:
		if v {
			sb.WriteString("#t\n")
		} else {
			sb.WriteString("#f\n")
		}
	case error:
		writeError(sb, v.Error())
	case []interface{}:
		fmt.Fprintf(sb, "*%d\n", len(v))
		for _, elem := range v {
			writeValue(sb, elem)
		}
	case map[interface{}]interface{}:
		writeMap(sb, v)
	case map[string]interface{}:
		m := make(map[interface{}]interface{}, len(v))
		for k, e := range v {
			m[k] = e
		}
		writeMap(sb, m)
	default:
		sb.WriteString("+")
		fmt.Fprintf(sb, "%v", v)
		sb.WriteString("\n")
	}
}

// writeMap emits entries ordered by the textual form of their keys so that
// replies are stable.
func writeMap(sb *strings.Builder, m map[interface{}]interface{}) {
	keys := make([]interface{}, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})

	fmt.Fprintf(sb, "%%%d\n", len(m))
	for _, k := range keys {
		writeValue(sb, k)
		writeValue(sb, m[k])
	}
}

func writeError(sb *strings.Builder, msg string) {
	sb.WriteString("-")
	sb.WriteString(strings.ReplaceAll(msg, "\n", " "))
	sb.WriteString("\n")
}
