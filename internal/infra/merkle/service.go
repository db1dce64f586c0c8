package merkle

// Service adapts the package functions to the int64 proof fields receipts
// carry on the wire.
type Service struct{}

func (s *Service) VerifyInclusion(leafHash []byte, leafIndex int64, treeSize int64, path [][]byte, expectedRoot []byte) (bool, error) {
	return VerifyInclusionProof(leafHash, int(leafIndex), int(treeSize), path, expectedRoot)
}
