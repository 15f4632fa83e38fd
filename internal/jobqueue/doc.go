// Package jobqueue carries stage-transition messages between workers with
// at-least-once delivery. Jobs are leased with a visibility deadline;
// releasing an exhausted job dead-letters it instead of redelivering.
package jobqueue
