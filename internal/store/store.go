package store

import (
	"github.com/notfall/dispatchd/internal/db"
)

type Store struct{ db *db.DB }

func New(d *db.DB) *Store { return &Store{db: d} }
