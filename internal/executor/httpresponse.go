package executor

import "net/http"

// HTTPResponseKey flags an item's JSON payload as the raw content a
// "last-node" webhook response should reply with, bypassing the
// standard executionId/status/data envelope (§4.1). A flow author sets
// it on a node's output item to control the webhook's status code,
// headers, cookies and body directly.
const HTTPResponseKey = "_httpResponse"

// HTTPResponse is the decoded shape of an item flagged with
// HTTPResponseKey.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Cookies    []*http.Cookie
	Body       interface{}
}

// ExtractHTTPResponse scans items most-recently-produced first for one
// flagged with HTTPResponseKey. Scanning in reverse means a later node
// in the flow wins over an earlier one that also happened to set the
// flag. It returns false if no item is flagged.
func ExtractHTTPResponse(items []Item) (*HTTPResponse, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		flag, ok := items[i].JSON[HTTPResponseKey]
		if !ok {
			continue
		}
		if b, ok := flag.(bool); !ok || !b {
			continue
		}
		return decodeHTTPResponse(items[i].JSON), true
	}
	return nil, false
}

func decodeHTTPResponse(data map[string]interface{}) *HTTPResponse {
	resp := &HTTPResponse{StatusCode: http.StatusOK}

	if sc, ok := data["statusCode"].(float64); ok {
		resp.StatusCode = int(sc)
	}

	if headers, ok := data["headers"].(map[string]interface{}); ok {
		resp.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				resp.Headers[k] = s
			}
		}
	}

	if cookies, ok := data["cookies"].([]interface{}); ok {
		for _, c := range cookies {
			cm, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			cookie := &http.Cookie{}
			if name, ok := cm["name"].(string); ok {
				cookie.Name = name
			}
			if value, ok := cm["value"].(string); ok {
				cookie.Value = value
			}
			if path, ok := cm["path"].(string); ok {
				cookie.Path = path
			}
			resp.Cookies = append(resp.Cookies, cookie)
		}
	}

	resp.Body = data["body"]
	return resp
}
