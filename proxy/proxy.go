package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/cmlabs/modelproxy/model"
	"github.com/cmlabs/modelproxy/utils"
	"go.uber.org/zap"
)

// Forwarder dispatches rewritten requests to backend endpoints and relays
// their responses, streaming or buffered.
type Forwarder struct {
	client *http.Client
	logger *zap.Logger
}

// NewForwarder creates a forwarder. The upstream client carries no overall
// timeout: completions can stream for minutes, and cancellation arrives
// through the inbound request context instead.
func NewForwarder(logger *zap.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{},
		logger: logger,
	}
}

// UpstreamURL joins an endpoint's configured root with an OpenAI path
// suffix. The configured url is the bare host root; the /v1 segment is
// inserted here.
func UpstreamURL(ep *model.Endpoint, suffix string) string {
	return strings.TrimRight(ep.URL, "/") + "/v1" + suffix
}

// ForwardChatCompletion rewrites the model field to the endpoint's actual
// model name, swaps the Authorization header for the endpoint's key, and
// relays the backend response. Every other payload field passes through
// untouched, so backend-specific extensions keep working. When the backend
// answers with server-sent events the body is relayed chunk by chunk.
func (f *Forwarder) ForwardChatCompletion(w http.ResponseWriter, r *http.Request, ep *model.Endpoint, payload map[string]interface{}) {
	payload["model"] = ep.ActualModelName
	body, err := json.Marshal(payload)
	if err != nil {
		utils.WriteJSONError(w, http.StatusInternalServerError, "re-encoding request body: %v", err)
		return
	}

	target := UpstreamURL(ep, "/chat/completions")
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadGateway, "building upstream request: %v", err)
		return
	}
	auth := "Bearer " + ep.APIKey
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth)
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	f.logger.Info("Forwarding chat completion",
		zap.String("url", target),
		zap.String("model", ep.ActualModelName),
		zap.String("Authorization", utils.RedactAuthorization(auth)))

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("Upstream request failed", zap.String("url", target), zap.Error(err))
		utils.WriteJSONError(w, http.StatusBadGateway, "upstream %s unreachable: %v", ep.DisplayName, err)
		return
	}
	defer resp.Body.Close()

	if isEventStream(resp) {
		f.relayStream(w, resp)
		return
	}
	f.relayBuffered(w, resp)
}

func isEventStream(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

// relayBuffered reads the whole upstream body and replays it with the
// upstream status. Non-2xx statuses relay the same way; the caller sees
// exactly what the backend said.
func (f *Forwarder) relayBuffered(w http.ResponseWriter, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.logger.Error("Failed reading upstream response", zap.Error(err))
		utils.WriteJSONError(w, http.StatusBadGateway, "reading upstream response: %v", err)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	w.Write(body) //nolint:errcheck
}

// relayStream copies the upstream body to the client as it arrives, flushing
// after every chunk so tokens show up immediately. Frame content and order
// are preserved; the relay never buffers the whole stream.
func (f *Forwarder) relayStream(w http.ResponseWriter, resp *http.Response) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				f.logger.Debug("Client disconnected during stream", zap.Error(werr))
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				f.logger.Warn("Upstream stream ended with error", zap.Error(err))
			}
			return
		}
	}
}

// NewReverseProxy builds a reverse proxy for an endpoint, used for every
// route the proxy does not implement itself. The Director rewrites the
// target under the endpoint's /v1 root and swaps the caller's Authorization
// header for the backend key; the body is not touched.
func NewReverseProxy(ep *model.Endpoint, logger *zap.Logger) (*httputil.ReverseProxy, error) {
	urlParsed, err := url.Parse(strings.TrimRight(ep.URL, "/"))
	if err != nil {
		return nil, err
	}

	rp := httputil.NewSingleHostReverseProxy(urlParsed)
	rp.Director = func(req *http.Request) {
		originalHost := req.Host
		originalPath := req.URL.Path
		req.Host = urlParsed.Host
		req.URL.Scheme = urlParsed.Scheme
		req.URL.Host = urlParsed.Host
		req.URL.Path = urlParsed.Path + "/v1" + originalPath

		req.Header.Set("X-Forwarded-Host", originalHost)
		auth := "Bearer " + ep.APIKey
		req.Header.Set("Authorization", auth)

		logger.Debug("Proxying request",
			zap.String("URL", req.URL.String()),
			zap.String("method", req.Method),
			zap.String("Authorization", utils.RedactAuthorization(auth)))
	}
	// Negative FlushInterval flushes immediately after each write, which
	// keeps SSE bodies streaming through the generic path too.
	rp.FlushInterval = -1
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("Upstream request failed",
			zap.String("backend", ep.DisplayName),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		utils.WriteJSONError(w, http.StatusBadGateway, "upstream %s unreachable: %v", ep.DisplayName, err)
	}
	return rp, nil
}
