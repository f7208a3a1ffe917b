package reload

import "bytes"

const marker = "__devserver_reload"

// ClientScript reloads the page when the server sends a reload event.
const ClientScript = `<script id="` + marker + `">(function(){` +
	`var es=new EventSource("` + EndpointPath + `");` +
	`es.addEventListener("reload",function(){location.reload()});` +
	`})();</script>`

// InjectScript inserts ClientScript before the closing body tag, or appends
// it when there is none. Documents that already carry it are returned as is.
func InjectScript(html []byte) []byte {
	if bytes.Contains(html, []byte(marker)) {
		return html
	}
	idx := bytes.LastIndex(html, []byte("</body>"))
	if idx < 0 {
		return append(append([]byte{}, html...), ClientScript...)
	}
	out := make([]byte, 0, len(html)+len(ClientScript))
	out = append(out, html[:idx]...)
	out = append(out, ClientScript...)
	out = append(out, html[idx:]...)
	return out
}
