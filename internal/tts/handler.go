package tts

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type",
	"Access-Control-Allow-Methods": "POST, OPTIONS",
}

// Handler exposes Service as the text-to-speech HTTP function.
func Handler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for k, v := range corsHeaders {
			w.Header().Set(k, v)
		}

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		case http.MethodPost:
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		res, err := svc.Speak(r.Context(), req)
		if err != nil {
			writeError(w, statusFor(err), apperr.Message(err))
			return
		}

		resp := Response{Audio: base64.StdEncoding.EncodeToString(res.Audio)}
		if res.PublicURL != "" {
			url := res.PublicURL
			resp.PublicURL = &url
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindRateLimit:
		return http.StatusTooManyRequests
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindAborted:
		return 499
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
