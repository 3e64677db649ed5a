package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/proxyauth/internal/shared"
)

// AuthState is the in-flight state of one login attempt.
type AuthState struct {
	StateToken string
	Code       string
	Error      string
	Complete   bool
}

// Outcome is what the browser delivered to the callback: a code, or a provider error.
type Outcome struct {
	Code        string
	Error       string
	Description string
}

// Err returns nil for a code and a [shared.ErrAuthFailed] wrapper for a provider error.
func (o Outcome) Err() error {
	if o.Error == "" {
		return nil
	}
	if o.Description != "" {
		return fmt.Errorf("%w: %s: %s", shared.ErrAuthFailed, o.Error, o.Description)
	}
	return fmt.Errorf("%w: %s", shared.ErrAuthFailed, o.Error)
}

// CallbackHandler serves the waiting page and the OAuth redirect target.
type CallbackHandler struct {
	logger *log.Logger

	mu      sync.Mutex
	state   AuthState
	outcome chan Outcome
}

func NewCallbackHandler(logger *log.Logger) *CallbackHandler {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &CallbackHandler{logger: logger}
}

// Routes returns the mux patterns this handler serves.
func (h *CallbackHandler) Routes() []string {
	return []string{"GET /{$}", "GET /callback"}
}

// Arm starts a new attempt expecting stateToken, discarding any previous state.
//
// The returned channel receives exactly one [Outcome].
func (h *CallbackHandler) Arm(stateToken string) <-chan Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = AuthState{StateToken: stateToken}
	h.outcome = make(chan Outcome, 1)
	return h.outcome
}

// State returns a snapshot of the current attempt.
func (h *CallbackHandler) State() AuthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/callback" {
		h.callback(w, r)
		return
	}
	h.waiting(w)
}

func (h *CallbackHandler) waiting(w http.ResponseWriter) {
	st := h.State()
	switch {
	case st.Complete && st.Error == "":
		renderPage(w, http.StatusOK, successPage)
	case st.Complete:
		renderPage(w, http.StatusOK, failurePage(st.Error))
	default:
		renderPage(w, http.StatusOK, waitingPage)
	}
}

func (h *CallbackHandler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	errParam := q.Get("error")

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.matches(q.Get("state")) {
		h.logger.Warn("rejected callback with invalid state")
		renderPage(w, http.StatusBadRequest, failurePage(shared.ErrStateMismatch.Error()))
		return
	}

	if h.state.Complete {
		h.logger.Debug("ignoring repeated callback")
		if h.state.Error != "" {
			renderPage(w, http.StatusOK, failurePage(h.state.Error))
		} else {
			renderPage(w, http.StatusOK, successPage)
		}
		return
	}

	switch {
	case errParam != "":
		o := Outcome{Error: errParam, Description: q.Get("error_description")}
		h.state.Error = errParam
		if o.Description != "" {
			h.state.Error = errParam + ": " + o.Description
		}
		h.complete(o)
		h.logger.Warn("authorization denied", "error", errParam)
		renderPage(w, http.StatusOK, failurePage(h.state.Error))
	case code != "":
		h.state.Code = code
		h.complete(Outcome{Code: code})
		h.logger.Info("authorization code received")
		renderPage(w, http.StatusOK, successPage)
	default:
		renderPage(w, http.StatusBadRequest, failurePage("missing authorization code"))
	}
}

// matches compares against the armed token in constant time. An unarmed handler matches nothing.
func (h *CallbackHandler) matches(got string) bool {
	want := h.state.StateToken
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// complete must be called with mu held, after the code or error is stored.
func (h *CallbackHandler) complete(o Outcome) {
	h.state.Complete = true
	h.outcome <- o
}
