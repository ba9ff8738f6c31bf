package dedupe

import (
	"MediaMerger/internal/models"
	"sort"
)

// bkTreeMinSize 以上且哈希等长时，用 BK 树查找邻居；结果与两两比较完全一致。
const bkTreeMinSize = 256

// Eligible 判断记录能否参与 ch 通道的聚类：只有带该通道哈希的图片可以。
func Eligible(r *models.MediaRecord, ch models.HashChannel) bool {
	return r.Kind == models.KindImage && r.Hash(ch) != ""
}

// Cluster 把同一目录下的记录按感知哈希划分为连通分量。
//
// 两条记录的哈希距离不超过 threshold 即视为相连；分量按输入顺序从每个未访问的记录开始做 BFS。
// 视频与缺少哈希的记录各自成为单元素簇。返回的簇按首个成员在输入中的位置排序，
// 每条输入记录恰好出现在一个簇中。
func Cluster(records []models.MediaRecord, ch models.HashChannel, threshold int) [][]models.MediaRecord {
	hashes := make([]string, len(records))
	var hashable []int
	for i := range records {
		if Eligible(&records[i], ch) {
			hashes[i] = records[i].Hash(ch)
			hashable = append(hashable, i)
		}
	}

	var neighbours neighbourFunc
	if len(hashable) >= bkTreeMinSize && sameLength(hashes, hashable) {
		neighbours = treeNeighbours(hashes, hashable, threshold)
	} else {
		neighbours = pairwiseNeighbours(hashes, hashable, threshold)
	}

	visited := make([]bool, len(records))
	var clusters [][]models.MediaRecord
	for i := range records {
		if visited[i] {
			continue
		}
		visited[i] = true
		if hashes[i] == "" {
			clusters = append(clusters, []models.MediaRecord{records[i]})
			continue
		}
		var cluster []models.MediaRecord
		queue := []int{i}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			cluster = append(cluster, records[cur])
			for _, j := range neighbours(cur) {
				if !visited[j] {
					visited[j] = true
					queue = append(queue, j)
				}
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// ClusterTwoPhase 先用粗通道聚类，再用细通道拆分每个多成员簇。
// 细化只会拆分，不会让任何簇变大。
func ClusterTwoPhase(records []models.MediaRecord, coarse models.HashChannel, coarseThreshold int, fine models.HashChannel, fineThreshold int) [][]models.MediaRecord {
	var out [][]models.MediaRecord
	for _, c := range Cluster(records, coarse, coarseThreshold) {
		if len(c) <= 1 {
			out = append(out, c)
			continue
		}
		out = append(out, Cluster(c, fine, fineThreshold)...)
	}
	return out
}

type neighbourFunc func(i int) []int

// pairwiseNeighbours 按输入顺序返回所有距离不超过阈值的记录下标。
func pairwiseNeighbours(hashes []string, hashable []int, threshold int) neighbourFunc {
	return func(i int) []int {
		var out []int
		for _, j := range hashable {
			if j != i && Hamming(hashes[i], hashes[j]) <= threshold {
				out = append(out, j)
			}
		}
		return out
	}
}

func treeNeighbours(hashes []string, hashable []int, threshold int) neighbourFunc {
	var tree bkTree
	for _, i := range hashable {
		tree.insert(hashes[i], i)
	}
	return func(i int) []int {
		found := tree.within(hashes[i], threshold)
		sort.Ints(found)
		out := found[:0]
		for _, j := range found {
			if j != i {
				out = append(out, j)
			}
		}
		return out
	}
}

func sameLength(hashes []string, hashable []int) bool {
	if len(hashable) == 0 {
		return true
	}
	n := len(hashes[hashable[0]])
	for _, i := range hashable {
		if len(hashes[i]) != n {
			return false
		}
	}
	return true
}
