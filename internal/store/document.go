package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jensholdgaard/team-auction/internal/ledger"
	"github.com/jensholdgaard/team-auction/internal/roster"
)

// UnmarshalJSON accepts players either as a list or as an object keyed by
// player ID, the shape of a realtime-database export. A keyed player without
// an id takes its key.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		Players json.RawMessage `json:"players"`
		Teams   []ledger.Team   `json:"teams"`
		Admins  []Admin         `json:"admins"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	players, err := decodePlayers(raw.Players)
	if err != nil {
		return err
	}
	*d = Document{Players: players, Teams: raw.Teams, Admins: raw.Admins}
	return nil
}

func decodePlayers(raw json.RawMessage) ([]roster.Player, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var players []roster.Player
		if err := json.Unmarshal(raw, &players); err != nil {
			return nil, fmt.Errorf("decoding players: %w", err)
		}
		return players, nil
	}

	var keyed map[string]roster.Player
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, fmt.Errorf("decoding players: %w", err)
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	players := make([]roster.Player, 0, len(keyed))
	for _, k := range keys {
		p := keyed[k]
		if p.ID == "" {
			p.ID = k
		}
		players = append(players, p)
	}
	return players, nil
}
