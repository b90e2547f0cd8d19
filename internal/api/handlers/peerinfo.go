package handlers

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/omnia-network/wg-gateway/internal/apierr"
	"go.uber.org/zap"
)

type peerInfoResponse struct {
	ID           string `json:"id"`
	InternalIP   string `json:"internal_ip"`
	PublicIP     string `json:"public_ip"`
	PublicKey    string `json:"public_key"`
	ProxyAddress string `json:"proxy_address"`
}

// PeerInfo handles GET /peer-info. The caller is identified by the remote
// socket's IP, which is the peer's VPN IP because the request arrives
// through the tunnel itself.
func (h *Handlers) PeerInfo(c *gin.Context) {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.New("No remote address"))
		return
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		c.JSON(http.StatusBadRequest, apierr.New("IPv6 peers are not supported"))
		return
	}
	vpnIP := ip.String()

	h.dir.Lock()
	defer h.dir.Unlock()

	info, err := h.dir.GetPeerInfo(vpnIP)
	if err != nil {
		c.JSON(http.StatusNotFound, apierr.NotRegistered())
		return
	}

	peer, err := h.dir.RefreshAndGetPeer(c.Request.Context(), vpnIP)
	if err != nil {
		h.logger.Error("refresh_and_get_peer failed", zap.Error(err))
		c.JSON(http.StatusNotFound, apierr.NotRegistered())
		return
	}

	c.JSON(http.StatusOK, peerInfoResponse{
		ID:           info.ID.String(),
		InternalIP:   vpnIP,
		PublicIP:     info.PublicIP,
		PublicKey:    peer.PublicKey,
		ProxyAddress: h.config.ProxyInternalAddress,
	})
}
