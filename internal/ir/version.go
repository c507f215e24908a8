package ir

// RecordVersion is the schema version of every hashed record. It is part of
// each identity domain, so bumping it changes every derived ID and handle.
const RecordVersion = "1"

// Release is the vrelay release reported by "vrelay --version".
const Release = "0.1.0"
