// Package views holds the JSON shapes served by the inspection API.
package views

type AreaView struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Pages int    `json:"pages"`
	Perm  string `json:"perm"`
	Kind  string `json:"kind"`
}

type TaskView struct {
	ID           int               `json:"id"`
	Status       string            `json:"status"`
	ExitCode     int               `json:"exit_code"`
	Dispatched   bool              `json:"dispatched"`
	DispatchTime uint64            `json:"dispatch_time_ms"`
	Syscalls     map[string]uint32 `json:"syscalls,omitempty"`
	StateCount   map[string]int    `json:"state_count"`
	StateTime    map[string]uint64 `json:"state_time_ms"`
	MappedPages  int               `json:"mapped_pages"`
	Areas        []AreaView        `json:"areas,omitempty"`
}

type MemoryView struct {
	BootID     string `json:"boot_id"`
	PageSize   int    `json:"page_size"`
	Levels     int    `json:"levels"`
	MaxVA      string `json:"max_va"`
	Total      string `json:"total"`
	Free       string `json:"free"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	TLBEntries int    `json:"tlb_entries"`
	TLBUsed    int    `json:"tlb_used"`
}

type SchedulerView struct {
	Halted     bool   `json:"halted"`
	Reason     string `json:"reason,omitempty"`
	Current    int    `json:"current"`
	Dispatches []int  `json:"dispatches"`
}
