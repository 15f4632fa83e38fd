// Package stage implements the worker protocol shared by the four pipeline
// stages: mark in-progress, announce, validate preconditions, run the
// transform outside any store transaction, persist the outcome, transition
// the pipeline status, audit, and hand off to the next stage's job.
package stage
