// Package worker runs the job consumption loop.
//
// A Loop blocks on a queue, executes whatever it reserves and stops after an
// optional time budget or number of executed jobs. Failed jobs count as
// executed. RunPool runs several loops against the same queue.
package worker
