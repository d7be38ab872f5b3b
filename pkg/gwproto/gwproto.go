// Package gwproto defines the on-disk JSON schema for the state file,
// independent of the internal gateway.State representation, so the
// wire shape stays pinned even as the in-memory model evolves.
package gwproto

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/kuuji/defaultconfd/internal/gateway"
)

// GatewayRecord is the on-disk shape of a single candidate gateway.
type GatewayRecord struct {
	Family   string  `json:"family"`
	Link     string  `json:"link"`
	Protocol string  `json:"protocol"`
	Addr     string  `json:"addr"`
	TS       float64 `json:"ts"`
}

// GatewaySelectRecord is the on-disk shape of a disable-set entry or a
// priority-list entry.
type GatewaySelectRecord struct {
	Family   *string `json:"family,omitempty"`
	Link     string  `json:"link,omitempty"`
	Protocol string  `json:"protocol,omitempty"`
}

// StateFile is the top-level JSON object persisted at Config.StatePath.
type StateFile struct {
	Gateways []GatewayRecord       `json:"gateways"`
	Disabled []GatewaySelectRecord `json:"disabled"`
}

// FromState converts the in-memory State into its canonical wire form.
// The slices are sorted so that two States with the same contents
// serialize identically regardless of map iteration order — this is
// what makes StateStore.Update's pre/post comparison meaningful.
func FromState(s gateway.State) StateFile {
	gws := s.SortedGateways()
	records := make([]GatewayRecord, 0, len(gws))
	for _, g := range gws {
		records = append(records, GatewayRecord{
			Family:   g.Family.String(),
			Link:     g.LinkName,
			Protocol: g.Protocol,
			Addr:     g.Address.String(),
			TS:       float64(g.Timestamp.UnixNano()) / 1e9,
		})
	}

	disabled := make([]GatewaySelectRecord, 0, len(s.Disabled))
	for _, d := range s.Disabled {
		disabled = append(disabled, selectToRecord(d))
	}
	sort.Slice(disabled, func(i, j int) bool {
		return selectRecordKey(disabled[i]) < selectRecordKey(disabled[j])
	})

	return StateFile{Gateways: records, Disabled: disabled}
}

// ToState parses a StateFile into the in-memory representation.
// Unknown fields are ignored by encoding/json already; missing fields
// default to their zero value.
func ToState(f StateFile) (gateway.State, error) {
	s := gateway.NewState()
	for _, r := range f.Gateways {
		g, err := recordToGateway(r)
		if err != nil {
			return gateway.State{}, fmt.Errorf("gateway record %+v: %w", r, err)
		}
		s.Add(g)
	}
	for _, r := range f.Disabled {
		sel, err := recordToSelect(r)
		if err != nil {
			return gateway.State{}, fmt.Errorf("disable record %+v: %w", r, err)
		}
		s.Disabled = append(s.Disabled, sel)
	}
	return s, nil
}

// Marshal renders a State as canonical JSON: keys in the fixed struct
// field order, records in FromState's sorted order.
func Marshal(s gateway.State) ([]byte, error) {
	return json.Marshal(FromState(s))
}

// Unmarshal parses a JSON document into a State. An empty or absent
// document is not this function's concern — callers treat a missing
// file as State{} before ever calling Unmarshal.
func Unmarshal(data []byte) (gateway.State, error) {
	var f StateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return gateway.State{}, fmt.Errorf("decoding state file: %w", err)
	}
	return ToState(f)
}

func recordToGateway(r GatewayRecord) (gateway.Gateway, error) {
	family, err := gateway.ParseAddressFamily(r.Family)
	if err != nil {
		return gateway.Gateway{}, err
	}
	addr := net.ParseIP(r.Addr)
	if addr == nil {
		return gateway.Gateway{}, fmt.Errorf("invalid address %q", r.Addr)
	}
	sec := int64(r.TS)
	nsec := int64((r.TS - float64(sec)) * 1e9)
	return gateway.Gateway{
		Family:    family,
		LinkName:  r.Link,
		Protocol:  r.Protocol,
		Address:   addr,
		Timestamp: time.Unix(sec, nsec),
	}, nil
}

func recordToSelect(r GatewaySelectRecord) (gateway.GatewaySelect, error) {
	sel := gateway.GatewaySelect{LinkName: r.Link, Protocol: r.Protocol}
	if r.Family != nil {
		family, err := gateway.ParseAddressFamily(*r.Family)
		if err != nil {
			return gateway.GatewaySelect{}, err
		}
		sel.Family = &family
	}
	return sel, nil
}

func selectToRecord(s gateway.GatewaySelect) GatewaySelectRecord {
	r := GatewaySelectRecord{Link: s.LinkName, Protocol: s.Protocol}
	if s.Family != nil {
		name := s.Family.String()
		r.Family = &name
	}
	return r
}

func selectRecordKey(r GatewaySelectRecord) string {
	family := ""
	if r.Family != nil {
		family = *r.Family
	}
	return family + "\x00" + r.Link + "\x00" + r.Protocol
}
