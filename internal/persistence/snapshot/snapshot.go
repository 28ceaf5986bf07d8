// Package snapshot reads and writes portable, zstd-compressed world files.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/talgya/demesne/internal/culture"
	"github.com/talgya/demesne/internal/demographics"
	"github.com/talgya/demesne/internal/engine"
	"github.com/talgya/demesne/internal/social"
)

// Version is the current snapshot format version.
const Version = 1

// Header is the first line of a snapshot file, readable without decoding
// the body.
type Header struct {
	Version int       `json:"version"`
	WorldID uuid.UUID `json:"world_id"`
	Year    uint64    `json:"year"`
}

// SnapshotV1 is a whole world in format version 1.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed      int64        `json:"seed"`
	Nations   []NationV1   `json:"nations"`
	Provinces []ProvinceV1 `json:"provinces"`
	Resources []ResourceV1 `json:"resources"`
	Events    []EventV1    `json:"events,omitempty"`
}

// NationV1 is a stored nation. Its provinces are recovered from ProvinceV1.NationID.
type NationV1 struct {
	ID          uint32 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProvinceV1 is a stored province with its communities in order.
type ProvinceV1 struct {
	ID          uint32        `json:"id"`
	NationID    uint32        `json:"nation_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Communities []CommunityV1 `json:"communities"`
}

// CommunityV1 is a stored community.
type CommunityV1 struct {
	ID      uint32            `json:"id"`
	Culture culture.Culture   `json:"culture"`
	Ages    demographics.Ages `json:"ages"`
}

// ResourceV1 is a stored resource.
type ResourceV1 struct {
	ID          uint32 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// EventV1 is a stored event. Event meta is not kept.
type EventV1 struct {
	Seq         uint64 `json:"seq"`
	Year        uint64 `json:"year"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Capture copies the simulation's current state into a snapshot. The year,
// registry and events are read together.
func Capture(sim *engine.Simulation, worldID uuid.UUID, seed int64) SnapshotV1 {
	snap := SnapshotV1{Seed: seed}

	sim.Snapshot(func(year uint64, reg *social.Registry, events []engine.Event) {
		snap.Header = Header{Version: Version, WorldID: worldID, Year: year}
		for _, n := range reg.Nations() {
			snap.Nations = append(snap.Nations, NationV1{ID: n.ID, Name: n.Name, Description: n.Description})
		}
		for _, p := range reg.Provinces() {
			pv := ProvinceV1{ID: p.ID, NationID: p.NationID, Name: p.Name, Description: p.Description}
			for _, c := range p.Population.Communities() {
				pv.Communities = append(pv.Communities, CommunityV1{ID: c.ID(), Culture: c.Culture(), Ages: c.Ages()})
			}
			snap.Provinces = append(snap.Provinces, pv)
		}
		for _, r := range reg.Resources() {
			snap.Resources = append(snap.Resources, ResourceV1{ID: r.ID, Name: r.Name, Description: r.Description})
		}
		for _, e := range events {
			snap.Events = append(snap.Events, EventV1{Seq: e.Seq, Year: e.Year, Description: e.Description, Category: e.Category})
		}
	})
	return snap
}

// Restore rebuilds a simulation from a snapshot.
func Restore(snap SnapshotV1) (*engine.Simulation, error) {
	if snap.Header.Version != Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}

	reg := social.NewRegistry()
	for _, n := range snap.Nations {
		reg.RestoreNation(social.Nation{ID: n.ID, Name: n.Name, Description: n.Description})
	}
	for _, p := range snap.Provinces {
		members := make([]demographics.Community, 0, len(p.Communities))
		for _, c := range p.Communities {
			members = append(members, demographics.NewCommunity(c.ID, c.Culture, c.Ages))
		}
		pop, err := demographics.New(members...)
		if err != nil {
			return nil, fmt.Errorf("province %d: %w", p.ID, err)
		}
		if err := reg.RestoreProvince(social.Province{
			ID:          p.ID,
			NationID:    p.NationID,
			Name:        p.Name,
			Description: p.Description,
			Population:  pop,
		}); err != nil {
			return nil, err
		}
	}
	for _, r := range snap.Resources {
		reg.RestoreResource(social.Resource{ID: r.ID, Name: r.Name, Description: r.Description})
	}

	events := make([]engine.Event, 0, len(snap.Events))
	for _, e := range snap.Events {
		events = append(events, engine.Event{Seq: e.Seq, Year: e.Year, Description: e.Description, Category: e.Category})
	}

	sim := engine.NewSimulation(reg)
	sim.Resume(snap.Header.Year, events, 0)
	return sim, nil
}

// WriteSnapshot writes a JSON header line followed by the JSON body, all
// inside one zstd stream. The file is only reported written once every
// buffer is flushed and the file is closed.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if err := encode(f, snap); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return nil
}

// encode writes the compressed snapshot to w, flushing the buffer and then
// closing the zstd stream.
func encode(w io.Writer, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	if err := writeBody(bw, snap); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("zstd close: %w", err)
	}
	return nil
}

func writeBody(bw *bufio.Writer, snap SnapshotV1) error {
	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

// ReadHeader reads only the header line of a snapshot.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	return h, nil
}

// ReadSnapshot reads and decodes a whole snapshot file.
func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header is repeated inside the body.
	_, _ = br.ReadBytes('\n')

	if err := json.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("json decode: %w", err)
	}
	return snap, nil
}
