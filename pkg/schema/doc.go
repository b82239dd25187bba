// Package schema describes the shape of the data a strategy consumes and produces.
//
// A strategy registry entry may declare an input schema, checked against the session
// context before any work is allocated, and an output schema, checked against the
// payload the pipeline returns. Schemas are written as field name to type name:
//
//	input:
//	  target:   string
//	  replicas: int
//	  labels:   "[string]"
//	  dry_run:  bool?
//
// A trailing "?" marks an optional field. "any" accepts every value and "map"
// accepts a nested JSON object.
package schema
