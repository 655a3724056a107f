package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// NewTrustedProxyMiddleware は信頼するプロキシ経由のリクエストに限り、
// X-Forwarded-ForからクライアントIPを求めてRemoteAddrを書き換えるミドルウェアを返す。
//
// X-Forwarded-Forは右端から辿り、信頼するプロキシ以外で最初に現れたアドレスを採用する。
// 接続元が信頼するプロキシでない場合、ヘッダーは無視する。trustedが空なら何もしない。
func NewTrustedProxyMiddleware(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := remoteAddr(r)
			if ok && isTrusted(trusted, peer) {
				if ip, found := forwardedClient(trusted, r.Header.Values("X-Forwarded-For")); found {
					r.RemoteAddr = net.JoinHostPort(ip.String(), "0")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(clientIP(r))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func isTrusted(trusted []netip.Prefix, addr netip.Addr) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedClient はX-Forwarded-Forの右端から、信頼するプロキシでない最初のアドレスを返す。
// 解釈できない値に当たった場合はそこで打ち切る。
func forwardedClient(trusted []netip.Prefix, values []string) (netip.Addr, bool) {
	var hops []string
	for _, v := range values {
		hops = append(hops, strings.Split(v, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return netip.Addr{}, false
		}
		addr = addr.Unmap()
		if !isTrusted(trusted, addr) {
			return addr, true
		}
	}
	return netip.Addr{}, false
}
