package transport

import "github.com/pion/webrtc/v3"

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Config holds the WebRTC settings shared by all connections of a factory.
type Config struct {
	ICEServers []ICEServer `json:"ice_servers"`
	ICELite    bool        `json:"ice_lite"`
	NAT1To1IPs []string    `json:"nat1to1_ips"`
	// PortMin and PortMax bound the shared ICE UDP port when SinglePort is
	// zero.
	PortMin uint16 `json:"port_min"`
	PortMax uint16 `json:"port_max"`
	// SinglePort multiplexes all ICE traffic on this UDP port when non-zero.
	SinglePort int `json:"single_port"`
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}
}

func (c Config) webrtcICEServers() []webrtc.ICEServer {
	if c.ICELite {
		return []webrtc.ICEServer{}
	}
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers
}
