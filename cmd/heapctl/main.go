// Command heapctl runs synthetic workloads against a heapcore heap and
// inspects the dumps it writes.
package main

func main() {
	execute()
}
