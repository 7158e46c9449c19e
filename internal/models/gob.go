package models

import (
	"encoding/gob"
	"time"
)

func init() {
	// Register interface-held types for BadgerDB serialization. Job
	// output and leaf result details are free-form maps, so the concrete
	// types stored behind interface{} must be known to gob.
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register([]string{})
	gob.Register(time.Time{})
}
