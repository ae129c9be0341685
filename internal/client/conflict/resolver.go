// Package conflict decides how a push conflict is settled. Resolvers are
// pure: they look only at the conflict they are given.
package conflict

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// Resolver turns a conflict into the resolution submitted to the server.
type Resolver interface {
	Resolve(c models.Conflict) (models.Resolution, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(c models.Conflict) (models.Resolution, error)

func (f ResolverFunc) Resolve(c models.Conflict) (models.Resolution, error) { return f(c) }

// ClientWins overwrites the server copy with the client's data.
func ClientWins() Resolver {
	return ResolverFunc(func(c models.Conflict) (models.Resolution, error) {
		return resolution(c, models.ClientWins, nil), nil
	})
}

// ServerWins keeps the server copy.
func ServerWins() Resolver {
	return ResolverFunc(func(c models.Conflict) (models.Resolution, error) {
		return resolution(c, models.ServerWins, nil), nil
	})
}

// Merge combines both sides field by field. Tables without a merge rule
// fall back to client_wins.
func Merge() Resolver {
	return ResolverFunc(func(c models.Conflict) (models.Resolution, error) {
		if c.Table != "" && c.Table != common.TableNotes {
			return resolution(c, models.ClientWins, nil), nil
		}
		merged, err := mergeNote(c.ClientData, c.ServerData)
		if err != nil {
			return models.Resolution{}, fmt.Errorf("merge %s: %w", c.RecordID, err)
		}
		return resolution(c, models.Merge, merged), nil
	})
}

// Default is the resolver used when none is configured.
func Default() Resolver { return ClientWins() }

// ByName maps a configured strategy name to its resolver. An empty name
// selects Default.
func ByName(name string) (Resolver, error) {
	switch models.ResolutionKind(name) {
	case "":
		return Default(), nil
	case models.ClientWins:
		return ClientWins(), nil
	case models.ServerWins:
		return ServerWins(), nil
	case models.Merge:
		return Merge(), nil
	}
	return nil, fmt.Errorf("unknown conflict strategy %q", name)
}

// ResolveAll resolves every conflict with r, stopping at the first error.
func ResolveAll(r Resolver, conflicts []models.Conflict) ([]models.Resolution, error) {
	out := make([]models.Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		res, err := r.Resolve(c)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func resolution(c models.Conflict, kind models.ResolutionKind, merged json.RawMessage) models.Resolution {
	table := c.Table
	if table == "" {
		table = common.TableNotes
	}
	return models.Resolution{RecordID: c.RecordID, Table: table, Resolution: kind, MergedData: merged}
}
