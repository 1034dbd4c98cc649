// Package types defines the data structures shared by every layer of the job engine.
//
// This package contains the protocol types exchanged between submitters,
// daemons and the workflow engine, including:
//   - Work requests and their results
//   - Progress listener and reporter contracts
//   - Aggregate progress reports
//   - The core error kind
package types
