package handlers

import (
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/omnia-network/wg-gateway/internal/apierr"
	"go.uber.org/zap"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

type registerRequest struct {
	PublicKey    string  `json:"public_key" binding:"required"`
	PresharedKey *string `json:"preshared_key"`
}

type registerResponse struct {
	ServerPublicKey string `json:"server_public_key"`
	AssignedIP      string `json:"assigned_ip"`
	AssignedID      string `json:"assigned_id"`
	ProxyAddress    string `json:"proxy_address"`
}

// Register handles POST /register-to-vpn: validate the offered key, hand it
// to the VPN controller, mint or reuse a directory entry, and report back
// everything the peer needs to finish bringing its tunnel up.
func (h *Handlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Newf("invalid request body: %v", err))
		return
	}

	if _, err := wgtypes.ParseKey(req.PublicKey); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Newf("invalid public_key: %v", err))
		return
	}
	if req.PresharedKey != nil {
		if _, err := wgtypes.ParseKey(*req.PresharedKey); err != nil {
			c.JSON(http.StatusBadRequest, apierr.Newf("invalid preshared_key: %v", err))
			return
		}
	}

	remoteAddr, err := parseUDPAddr(c.Request.RemoteAddr)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.New("No remote address"))
		return
	}

	h.dir.Lock()
	defer h.dir.Unlock()

	peer, err := h.dir.AddOrUpdatePeer(c.Request.Context(), req.PublicKey, req.PresharedKey, remoteAddr)
	if err != nil {
		h.logger.Error("add_or_update_peer failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, apierr.Newf("%v", err))
		return
	}

	id, err := h.dir.InsertPeer(remoteAddr.IP.String(), peer.VPNIP().String())
	if err != nil {
		h.logger.Error("insert_peer failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, apierr.Newf("%v", err))
		return
	}

	c.JSON(http.StatusOK, registerResponse{
		ServerPublicKey: h.dir.VPN().InterfacePublicKey,
		AssignedIP:      peer.VPNIP().String(),
		AssignedID:      id.String(),
		ProxyAddress:    h.config.ProxyInternalAddress,
	})
}

func parseUDPAddr(remoteAddr string) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, &net.AddrError{Err: "invalid IP address", Addr: host}
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: ip, Port: p}, nil
}
