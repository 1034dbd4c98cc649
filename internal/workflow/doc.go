// Package workflow schedules a graph of dependent tasks.
//
// An Engine owns a set of tasks. Tasks without inputs become ready when the
// engine initializes; a task with inputs becomes ready once every input
// finished successfully, and fails to initialize as soon as one input fails.
// Engine.Run invokes the ready tasks and returns once nothing is left to do
// for the moment; a Loop drives Run until the whole graph is done.
package workflow
