package handlers

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/omnia-network/wg-gateway/internal/apierr"
	"go.uber.org/zap"
)

const defaultForwardPort = "8888"

// Forward is the catch-all handler. It classifies the request per the
// header precedence table, resolves an upstream base URL while holding the
// directory lock, then releases the lock before streaming the proxied
// response (WireGuard commands never run concurrently with each other,
// while backend fetches run unlocked and in parallel with them).
func (h *Handlers) Forward(c *gin.Context) {
	target, mutateHeaders, apiErr := h.classify(c)
	if apiErr != nil {
		c.JSON(http.StatusNotFound, apiErr)
		return
	}
	if target == "" {
		c.JSON(http.StatusNotFound, apierr.NotRegistered())
		return
	}

	upstream, err := url.Parse(target)
	if err != nil {
		c.JSON(http.StatusBadGateway, apierr.Newf("malformed upstream url: %v", err))
		return
	}

	mutateHeaders(c.Request.Header)

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ServeHTTP(c.Writer, c.Request)
}

// classify resolves the upstream base URL and the header mutation to apply
// before forwarding. It holds the directory lock only for the duration of
// the lookup.
func (h *Handlers) classify(c *gin.Context) (target string, mutateHeaders func(http.Header), apiErr *apierr.Error) {
	noop := func(http.Header) {}

	if peerIDRaw := c.GetHeader("X-Forward-To-Peer"); peerIDRaw != "" {
		peerID, err := uuid.Parse(peerIDRaw)
		if err != nil {
			return "", noop, apierr.New("Peer not registered")
		}

		h.dir.Lock()
		internalIP, err := h.dir.GetPeerInternalIP(peerID)
		h.dir.Unlock()
		if err != nil {
			return "", noop, apierr.NotRegistered()
		}

		port := c.GetHeader("X-Forward-To-Port")
		if port == "" {
			port = defaultForwardPort
		}
		return "http://" + net.JoinHostPort(internalIP, port) + "/", noop, nil
	}

	remoteIP, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return "", noop, apierr.New("No remote address")
	}

	h.dir.Lock()
	defer h.dir.Unlock()

	if info, err := h.dir.GetPeerInfo(remoteIP); err == nil {
		destURL := c.GetHeader("X-Destination-Url")
		if destURL == "" {
			return "", noop, nil
		}
		publicIP, peerID := info.PublicIP, info.ID.String()
		return destURL, func(hdr http.Header) {
			hdr.Set("X-Proxied-For", publicIP)
			hdr.Set("X-Peer-Id", peerID)
		}, nil
	}

	publicIP, err := h.dir.GetPeerPublicIP(c.Request.Context(), remoteIP)
	if err != nil {
		h.logger.Info("forward classify: peer unknown in directory and vpn", zap.String("remote_ip", remoteIP))
		return "", noop, apierr.NotRegistered()
	}

	return "http://" + publicIP, func(hdr http.Header) {
		hdr.Set("X-Forwarded-For", publicIP)
	}, nil
}
