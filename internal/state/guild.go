package state

import (
	"github.com/google/uuid"
)

// Guild is a player group with a shared token pool. The pool balance lives
// in the ledger; the record keeps membership.
type Guild struct {
	ID            uint64      `json:"id"`
	Name          string      `json:"name"`
	Founder       uuid.UUID   `json:"founder"`
	Members       []uuid.UUID `json:"members"`
	CreatedAtUs   int64       `json:"created_at_us"`
	TotalProfit   int64       `json:"total_profit"`
	Level         uint32      `json:"level"`
	Contributions int64       `json:"contributions"`
}

func NewGuild(id uint64, name string, founder uuid.UUID, nowUs int64) *Guild {
	return &Guild{
		ID:          id,
		Name:        name,
		Founder:     founder,
		Members:     []uuid.UUID{founder},
		CreatedAtUs: nowUs,
		Level:       1,
	}
}

// Join adds p to the guild.
func (g *Guild) Join(p *Player) error {
	if p.GuildID != nil {
		return ErrAlreadyInGuild
	}
	g.Members = append(g.Members, p.ID)
	id := g.ID
	p.GuildID = &id
	return nil
}

// Leave removes p from the guild, keeping member order.
func (g *Guild) Leave(p *Player) {
	kept := g.Members[:0]
	for _, m := range g.Members {
		if m != p.ID {
			kept = append(kept, m)
		}
	}
	g.Members = kept
	p.GuildID = nil
}
