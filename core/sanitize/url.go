package sanitize

import (
	"regexp"
	"strings"
)

// 可识别的媒体引用前缀
var mediaPrefixes = []string{"http://", "https://", "blob:", "data:", "/"}

// schemePattern 匹配 URL 中每一次 scheme 出现的位置；blob:https:// 视为一次
var schemePattern = regexp.MustCompile(`blob:https?://|https?://|blob:|data:`)

// IsMediaURL reports whether u is a reference the renderer may load:
// http(s), blob, data, or an absolute/protocol-relative path.
func IsMediaURL(u string) bool {
	u = strings.TrimSpace(u)
	if u == "" {
		return false
	}
	for _, p := range mediaPrefixes {
		if strings.HasPrefix(u, p) && len(u) > len(p) {
			return true
		}
	}
	return false
}

// RenderableURL 渲染时使用：非法 URL 视为不存在
func RenderableURL(u string) string {
	if IsMediaURL(u) {
		return strings.TrimSpace(u)
	}
	return ""
}

// RepairMediaURL fixes the stored-URL corruption where a URL was concatenated
// with itself (or prefixed with junk). It returns the first well-formed
// occurrence, or "" when nothing usable can be extracted.
// changed is true when the returned value differs from the input.
func RepairMediaURL(u string) (repaired string, changed bool) {
	trimmed := strings.TrimSpace(u)
	if trimmed == "" {
		return "", u != ""
	}

	// data: URL 的负载可能包含任意文本，不做拆分
	if strings.HasPrefix(trimmed, "data:") {
		return trimmed, trimmed != u
	}
	// 路径引用（含协议相对）中的 scheme 只可能出现在查询参数里
	if strings.HasPrefix(trimmed, "/") {
		return trimmed, trimmed != u
	}

	matches := schemePattern.FindAllStringIndex(trimmed, -1)
	if len(matches) == 0 {
		return "", true
	}

	start := matches[0][0]
	end := len(trimmed)
	for _, m := range matches[1:] {
		// 作为参数值出现（例如代理地址 ?url=https://...）时属于合法 URL
		if isParamValue(trimmed[start:m[0]]) {
			continue
		}
		end = m[0]
		break
	}

	out := trimmed[start:end]
	if !IsMediaURL(out) || len(out) <= matches[0][1]-matches[0][0] {
		return "", true
	}
	return out, out != u
}

// isParamValue reports whether a scheme following prefix starts a query
// parameter value: directly after "=" or after a percent-escape such as %22.
func isParamValue(prefix string) bool {
	if strings.HasSuffix(prefix, "=") {
		return true
	}
	n := len(prefix)
	return n >= 3 && prefix[n-3] == '%' && isHex(prefix[n-2]) && isHex(prefix[n-1])
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
