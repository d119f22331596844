package scoring

import "github.com/typelens-ai/typelens/internal/model"

// DefaultPrototypes is the compiled-in Model A prototype table: for each of
// the 16 types, which block role each of the 8 functions occupies.
// Storage-served prototypes take precedence; this table is the fallback when
// the reference table is empty and the source of truth for seeding it.
var DefaultPrototypes = model.PrototypeTable{
	model.TypeILE: {
		model.FnNe: model.RoleBase, model.FnTi: model.RoleCreative,
		model.FnSe: model.RoleRole, model.FnFi: model.RoleVulnerable,
		model.FnSi: model.RoleSuggestive, model.FnFe: model.RoleMobilizing,
		model.FnNi: model.RoleIgnoring, model.FnTe: model.RoleDemonstrative,
	},
	model.TypeSEI: {
		model.FnSi: model.RoleBase, model.FnFe: model.RoleCreative,
		model.FnNi: model.RoleRole, model.FnTe: model.RoleVulnerable,
		model.FnNe: model.RoleSuggestive, model.FnTi: model.RoleMobilizing,
		model.FnSe: model.RoleIgnoring, model.FnFi: model.RoleDemonstrative,
	},
	model.TypeESE: {
		model.FnFe: model.RoleBase, model.FnSi: model.RoleCreative,
		model.FnTe: model.RoleRole, model.FnNi: model.RoleVulnerable,
		model.FnTi: model.RoleSuggestive, model.FnNe: model.RoleMobilizing,
		model.FnFi: model.RoleIgnoring, model.FnSe: model.RoleDemonstrative,
	},
	model.TypeLII: {
		model.FnTi: model.RoleBase, model.FnNe: model.RoleCreative,
		model.FnFi: model.RoleRole, model.FnSe: model.RoleVulnerable,
		model.FnFe: model.RoleSuggestive, model.FnSi: model.RoleMobilizing,
		model.FnTe: model.RoleIgnoring, model.FnNi: model.RoleDemonstrative,
	},
	model.TypeEIE: {
		model.FnFe: model.RoleBase, model.FnNi: model.RoleCreative,
		model.FnTe: model.RoleRole, model.FnSi: model.RoleVulnerable,
		model.FnTi: model.RoleSuggestive, model.FnSe: model.RoleMobilizing,
		model.FnFi: model.RoleIgnoring, model.FnNe: model.RoleDemonstrative,
	},
	model.TypeLSI: {
		model.FnTi: model.RoleBase, model.FnSe: model.RoleCreative,
		model.FnFi: model.RoleRole, model.FnNe: model.RoleVulnerable,
		model.FnFe: model.RoleSuggestive, model.FnNi: model.RoleMobilizing,
		model.FnTe: model.RoleIgnoring, model.FnSi: model.RoleDemonstrative,
	},
	model.TypeSLE: {
		model.FnSe: model.RoleBase, model.FnTi: model.RoleCreative,
		model.FnNe: model.RoleRole, model.FnFi: model.RoleVulnerable,
		model.FnNi: model.RoleSuggestive, model.FnFe: model.RoleMobilizing,
		model.FnSi: model.RoleIgnoring, model.FnTe: model.RoleDemonstrative,
	},
	model.TypeIEI: {
		model.FnNi: model.RoleBase, model.FnFe: model.RoleCreative,
		model.FnSi: model.RoleRole, model.FnTe: model.RoleVulnerable,
		model.FnSe: model.RoleSuggestive, model.FnTi: model.RoleMobilizing,
		model.FnNe: model.RoleIgnoring, model.FnFi: model.RoleDemonstrative,
	},
	model.TypeSEE: {
		model.FnSe: model.RoleBase, model.FnFi: model.RoleCreative,
		model.FnNe: model.RoleRole, model.FnTi: model.RoleVulnerable,
		model.FnNi: model.RoleSuggestive, model.FnTe: model.RoleMobilizing,
		model.FnSi: model.RoleIgnoring, model.FnFe: model.RoleDemonstrative,
	},
	model.TypeILI: {
		model.FnNi: model.RoleBase, model.FnTe: model.RoleCreative,
		model.FnSi: model.RoleRole, model.FnFe: model.RoleVulnerable,
		model.FnSe: model.RoleSuggestive, model.FnFi: model.RoleMobilizing,
		model.FnNe: model.RoleIgnoring, model.FnTi: model.RoleDemonstrative,
	},
	model.TypeLIE: {
		model.FnTe: model.RoleBase, model.FnNi: model.RoleCreative,
		model.FnFe: model.RoleRole, model.FnSi: model.RoleVulnerable,
		model.FnFi: model.RoleSuggestive, model.FnSe: model.RoleMobilizing,
		model.FnTi: model.RoleIgnoring, model.FnNe: model.RoleDemonstrative,
	},
	model.TypeESI: {
		model.FnFi: model.RoleBase, model.FnSe: model.RoleCreative,
		model.FnTi: model.RoleRole, model.FnNe: model.RoleVulnerable,
		model.FnTe: model.RoleSuggestive, model.FnNi: model.RoleMobilizing,
		model.FnFe: model.RoleIgnoring, model.FnSi: model.RoleDemonstrative,
	},
	model.TypeLSE: {
		model.FnTe: model.RoleBase, model.FnSi: model.RoleCreative,
		model.FnFe: model.RoleRole, model.FnNi: model.RoleVulnerable,
		model.FnFi: model.RoleSuggestive, model.FnNe: model.RoleMobilizing,
		model.FnTi: model.RoleIgnoring, model.FnSe: model.RoleDemonstrative,
	},
	model.TypeEII: {
		model.FnFi: model.RoleBase, model.FnNe: model.RoleCreative,
		model.FnTi: model.RoleRole, model.FnSe: model.RoleVulnerable,
		model.FnTe: model.RoleSuggestive, model.FnSi: model.RoleMobilizing,
		model.FnFe: model.RoleIgnoring, model.FnNi: model.RoleDemonstrative,
	},
	model.TypeIEE: {
		model.FnNe: model.RoleBase, model.FnFi: model.RoleCreative,
		model.FnSe: model.RoleRole, model.FnTi: model.RoleVulnerable,
		model.FnSi: model.RoleSuggestive, model.FnTe: model.RoleMobilizing,
		model.FnNi: model.RoleIgnoring, model.FnFe: model.RoleDemonstrative,
	},
	model.TypeSLI: {
		model.FnSi: model.RoleBase, model.FnTe: model.RoleCreative,
		model.FnNi: model.RoleRole, model.FnFe: model.RoleVulnerable,
		model.FnNe: model.RoleSuggestive, model.FnFi: model.RoleMobilizing,
		model.FnSe: model.RoleIgnoring, model.FnTi: model.RoleDemonstrative,
	},
}

// roleWeight maps a block role to its contribution weight during matching.
// The leading block dominates: base 1.0, creative 0.7, everything else 0.2.
func roleWeight(r model.BlockRole) float64 {
	switch r {
	case model.RoleBase:
		return 1.0
	case model.RoleCreative:
		return 0.7
	default:
		return 0.2
	}
}

// validatePrototypes checks the table covers all 16 types with all 8
// functions. Incomplete reference data is fatal for scoring: guessing
// weights would silently corrupt every profile scored with them.
func validatePrototypes(table model.PrototypeTable) error {
	for _, tc := range model.Types {
		proto, ok := table[tc]
		if !ok {
			return &ReferenceDataError{Detail: "prototype table missing type " + string(tc)}
		}
		for _, fn := range model.Functions {
			if _, ok := proto[fn]; !ok {
				return &ReferenceDataError{Detail: "prototype " + string(tc) + " missing function " + string(fn)}
			}
		}
	}
	return nil
}
