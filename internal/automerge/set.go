package automerge

import "github.com/mergomat/mergomat/internal/depupdate"

func toStrSet(sl []string) map[string]struct{} {
	res := make(map[string]struct{}, len(sl))

	for _, elem := range sl {
		res[elem] = struct{}{}
	}

	return res
}

func toUpdateTypeSet(sl []depupdate.Type) map[depupdate.Type]struct{} {
	res := make(map[depupdate.Type]struct{}, len(sl))

	for _, elem := range sl {
		res[elem] = struct{}{}
	}

	return res
}
