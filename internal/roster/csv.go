package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var requiredColumns = []string{"name", "interested_games"}

// ReadCSV parses a player catalog with a header row. Recognized columns are
// id, name, image, pitch, interested_games (comma separated) and base_price.
// Rows without an id get one from newID.
func ReadCSV(r io.Reader, defaultBase int, newID func() string) ([]Player, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("csv header is missing column %q", c)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var players []Player
	seen := make(map[string]struct{})
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		in := Input{
			Name:            field(rec, "name"),
			Image:           field(rec, "image"),
			Pitch:           field(rec, "pitch"),
			InterestedGames: strings.Split(field(rec, "interested_games"), ","),
		}
		if raw := field(rec, "base_price"); raw != "" {
			in.BasePrice, err = strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing base_price %q: %w", line, raw, err)
			}
		}

		id := field(rec, "id")
		if id == "" {
			id = newID()
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("line %d: duplicate player id %q", line, id)
		}
		seen[id] = struct{}{}

		p, err := New(id, in, defaultBase)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		players = append(players, p)
	}
	return players, nil
}
