package handler

import "net/http"

// Health はプロセスの死活を返す。ポータルへの疎通は確認しない。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
