package dnssrv

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/revflow-os/revcore/internal/config"
	"github.com/revflow-os/revcore/pkg/model"
	"github.com/revflow-os/revcore/pkg/storage"
)

const answerTTL = 30

// Server answers discovery queries for registered services: A and SRV
// records for <service_id>.<zone>. Only active records whose effective
// health is not unhealthy are answered, so DNS consumers never get routed to
// a service the prober knows is broken.
type Server struct {
	store           storage.RecordStore
	logger          config.Logger
	zone            string
	stalenessWindow time.Duration

	udp *dns.Server
}

// NewServer creates the DNS server. zone is normalized to a FQDN.
func NewServer(store storage.RecordStore, logger config.Logger, cfg *config.Config) *Server {
	zone := dns.Fqdn(strings.ToLower(cfg.DNS.Zone))

	s := &Server{
		store:           store,
		logger:          logger,
		zone:            zone,
		stalenessWindow: cfg.Prober.StalenessWindow,
	}

	addr := fmt.Sprintf("%s:%d", cfg.DNS.ListenAddress, cfg.DNS.Port)
	s.udp = &dns.Server{Addr: addr, Net: "udp", Handler: s}

	return s
}

// Start runs the server without blocking.
func (s *Server) Start() {
	s.logger.Info("discovery DNS listening",
		zap.String("addr", s.udp.Addr),
		zap.String("zone", s.zone),
	)

	go func() {
		if err := s.udp.ListenAndServe(); err != nil {
			s.logger.Error("discovery DNS failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.udp.ShutdownContext(ctx)
}

// ServeDNS implements dns.Handler.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)

	if r.Opcode != dns.OpcodeQuery {
		m.Rcode = dns.RcodeNotImplemented
		_ = w.WriteMsg(m)
		return
	}
	if len(r.Question) == 0 {
		m.Rcode = dns.RcodeFormatError
		_ = w.WriteMsg(m)
		return
	}

	q := r.Question[0]
	name := strings.ToLower(q.Name)

	if !strings.HasSuffix(name, s.zone) {
		m.Rcode = dns.RcodeRefused
		_ = w.WriteMsg(m)
		return
	}

	serviceID := strings.TrimSuffix(strings.TrimSuffix(name, s.zone), ".")
	record, ok := s.lookup(serviceID)
	if !ok {
		m.Rcode = dns.RcodeNameError
		_ = w.WriteMsg(m)
		return
	}

	m.Authoritative = true
	switch q.Qtype {
	case dns.TypeA:
		if rr := aRecord(q.Name, record); rr != nil {
			m.Answer = append(m.Answer, rr)
		}
	case dns.TypeSRV:
		m.Answer = append(m.Answer, srvRecord(q.Name, record))
	}

	if len(m.Answer) == 0 {
		// Known name, no data of the requested type.
		m.Rcode = dns.RcodeSuccess
	}

	_ = w.WriteMsg(m)
}

// lookup fetches the record and applies the routability policy.
func (s *Server) lookup(serviceID string) (*model.ServiceRecord, bool) {
	if serviceID == "" {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := s.store.Get(ctx, serviceID)
	if err != nil {
		if !storage.IsNotFound(err) {
			s.logger.Error("dns lookup failed",
				zap.String("service_id", serviceID),
				zap.Error(err),
			)
		}
		return nil, false
	}

	if record.Status != model.StatusActive {
		return nil, false
	}
	if record.EffectiveHealth(time.Now(), s.stalenessWindow) == model.HealthUnhealthy {
		return nil, false
	}

	return record, true
}

func aRecord(name string, record *model.ServiceRecord) dns.RR {
	host := record.Host
	if host == "localhost" {
		host = "127.0.0.1"
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return nil
	}

	return &dns.A{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    answerTTL,
		},
		A: ip.To4(),
	}
}

func srvRecord(name string, record *model.ServiceRecord) dns.RR {
	return &dns.SRV{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeSRV,
			Class:  dns.ClassINET,
			Ttl:    answerTTL,
		},
		Priority: 0,
		Weight:   10,
		Port:     uint16(record.Port),
		Target:   dns.Fqdn(record.Host),
	}
}
