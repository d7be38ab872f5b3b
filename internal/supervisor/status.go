package supervisor

import (
	"net"
	"time"

	"github.com/kuuji/defaultconfd/internal/control"
	"github.com/kuuji/defaultconfd/internal/gateway"
	"github.com/kuuji/defaultconfd/internal/nettables"
	"github.com/kuuji/defaultconfd/internal/selector"
)

// Status reports the current selection and kernel route for each
// address family, for the control server's GET /status and
// defaultconfctl's get-default command.
func (s *Supervisor) Status() control.Status {
	state := s.currentState()
	families := make([]control.FamilyStatus, 0, 2)
	for _, f := range []gateway.AddressFamily{gateway.INET, gateway.INET6} {
		families = append(families, s.familyStatus(state, f))
	}
	return control.Status{
		Families:      families,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
	}
}

func (s *Supervisor) familyStatus(state gateway.State, family gateway.AddressFamily) control.FamilyStatus {
	fs := control.FamilyStatus{Family: family.String()}

	g, ok := selector.Select(state, s.Tables, family, s.Config.Priority)
	if ok {
		fs.Selected = g.Address.String()
		fs.LinkName = g.LinkName
	}

	dest := defaultDestNet(family)
	matches := s.Tables.FindRoutes(func(r nettables.Route) bool {
		return sameDest(r.Destination, dest)
	})
	if len(matches) > 0 && matches[0].Gateway != nil {
		fs.Installed = matches[0].Gateway.String()
	}

	fs.InSync = fs.Selected == fs.Installed
	return fs
}

func defaultDestNet(family gateway.AddressFamily) *net.IPNet {
	if family == gateway.INET6 {
		_, n, _ := net.ParseCIDR("::/0")
		return n
	}
	_, n, _ := net.ParseCIDR("0.0.0.0/0")
	return n
}

func sameDest(a, b *net.IPNet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Mask.String() == b.Mask.String()
}
