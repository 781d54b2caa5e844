// Package model defines shared data types used across coursefeed.
//
// Conventions:
//   - IDs: int64, assigned by the backend
//   - Timestamps: int64 seconds since Unix epoch, as sent by the backend
package model
