package common

import "time"

// Version holds the current version of the pdfmill library.
const Version = "0.9.0"

const releaseYear = 2026
const releaseMonth = 7
const releaseDay = 14

// ReleasedAt is the release time of the current version.
var ReleasedAt = time.Date(releaseYear, releaseMonth, releaseDay, 0, 0, 0, 0, time.UTC)
