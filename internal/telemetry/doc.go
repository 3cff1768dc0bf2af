// Package telemetry turns entity changes into time-series points.
//
// On every state_changed event the writer reads the entity snapshot and
// emits one value per numeric field: the state itself when it parses as a
// number, and every numeric or boolean attribute. Booleans are written as
// 1 or 0. Everything else is skipped.
package telemetry
