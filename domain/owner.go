package domain

import "strings"

// Owner 通知地址链上的一级：Job -> JobTemplate -> Worker -> Project
type Owner interface {
	Addresses() []string
	// Parent 返回上一级，不存在时返回nil
	Parent() Owner
}

func (j *Job) Addresses() []string { return j.NotificationAddresses }

func (j *Job) Parent() Owner {
	if j.Template == nil {
		return nil
	}
	return j.Template
}

func (t *JobTemplate) Addresses() []string { return t.NotificationAddresses }

func (t *JobTemplate) Parent() Owner {
	if t.Worker == nil {
		return nil
	}
	return t.Worker
}

func (w *Worker) Addresses() []string { return w.NotificationAddresses }

func (w *Worker) Parent() Owner {
	if w.Project == nil {
		return nil
	}
	return w.Project
}

func (p *Project) Addresses() []string { return p.NotificationAddresses }

func (p *Project) Parent() Owner { return nil }

// CollectAddresses 沿着所属链收集通知地址，去重并保持顺序
func CollectAddresses(owner Owner) []string {
	var res []string
	seen := map[string]struct{}{}
	for o := owner; o != nil; o = o.Parent() {
		for _, addr := range o.Addresses() {
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			res = append(res, addr)
		}
	}
	return res
}

// SplitAddresses 解析以逗号、分号或空白分隔的地址列表
func SplitAddresses(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// JoinAddresses SplitAddresses的逆操作，用于持久化
func JoinAddresses(addrs []string) string {
	return strings.Join(addrs, ",")
}
