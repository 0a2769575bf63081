// Package extent abstracts where heap memory comes from.
//
// A Source is one contiguous region that grows and shrinks at its tail. The
// arena keeps offsets into Source.Bytes, so a Source must never move its
// base. A Mapper hands out independent Regions for slabs.
//
// Implementations:
//
//   - *mmap.Reservation: reserved OS address space (the default).
//   - Memory: a fixed-capacity Go-heap buffer, for tests and small heaps.
//   - Budgeted / BudgetedMapper: charge every byte against a
//     resource.Controller memory budget.
package extent
