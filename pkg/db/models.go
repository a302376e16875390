package db

import "time"

// DatalistEntry is a row in the datalists table: a site-wide key/value pair.
type DatalistEntry struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Modified time.Time `json:"modified"`
}
