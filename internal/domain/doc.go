// Package domain contains the entities shared by the coordination core:
// requests handed to workers, the candidate variants they produce, the
// scored and ranked variants built during aggregation, and the Worker
// capability itself. It has no dependency on scheduling, transport or
// any specific worker implementation.
package domain
