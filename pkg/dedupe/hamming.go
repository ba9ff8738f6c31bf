package dedupe

// Hamming 逐字符比较两个哈希字符串，只比较较短字符串的长度范围。
func Hamming(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	d := 0
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}
