package children

import "context"

// OwnerOf expone el ownerUserID de un menor.
// Se usa para evitar ciclos de imports entre módulos (children <-> sharetokens, etc).
func (s *Service) OwnerOf(ctx context.Context, childID string) (string, error) {
	c, err := s.GetByID(ctx, childID)
	if err != nil {
		return "", err
	}
	return c.OwnerUserID, nil
}
