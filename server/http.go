package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/numkem/hookscript"
	"github.com/numkem/hookscript/exchange"
)

const HTTP_REQUEST_TIMEOUT = 30 * time.Second

// HTTPProxy forwards POST /<script name> to the script's NATS subject. A JSON
// request body is the exchange itself; any other content type makes the request
// the exchange. The response body is the Reply JSON.
type HTTPProxy struct {
	nc      *nats.Conn
	timeout time.Duration
}

func NewHTTPProxy(nc *nats.Conn, timeout time.Duration) *HTTPProxy {
	if timeout <= 0 {
		timeout = HTTP_REQUEST_TIMEOUT
	}

	return &HTTPProxy{nc: nc, timeout: timeout}
}

func (p *HTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// We only support POST requests
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte("Only POST request are supported"))
		return
	}
	defer r.Body.Close()

	name := strings.Trim(r.URL.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("URL should be in the pattern of /<script>"))
		return
	}

	fields := log.Fields{
		"script": name,
		"client": r.RemoteAddr,
	}
	log.WithFields(fields).Info("Received HTTP request")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(fmt.Sprintf("failed to read request body: %v", err)))
		return
	}

	if !isJSON(r.Header.Get("Content-Type")) {
		body, err = json.Marshal(exchange.FromRequest(r, body))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(fmt.Sprintf("failed to encode exchange: %v", err)))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	msg := nats.NewMsg(hookscript.SubjectForScript(name))
	msg.Data = body
	otel.GetTextMapPropagator().Inject(ctx, natsHeaderCarrier(msg.Header))

	resp, err := p.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		log.WithFields(fields).Warnf("request failed: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(err.Error()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Data)
}

// isJSON treats a missing content type as JSON
func isJSON(contentType string) bool {
	if contentType == "" {
		return true
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func RunHTTP(ctx context.Context, port int, nc *nats.Conn, timeout time.Duration) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: NewHTTPProxy(nc, timeout),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Infof("Starting HTTP server on port %d", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
