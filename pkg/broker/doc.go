// Package broker implements the broker supervisor: a parent process that
// forks one worker child per configured queue, restarts a child that
// exits up to a bounded number of times within a sliding window, and
// propagates SIGTERM to the whole process group on its own termination.
package broker
