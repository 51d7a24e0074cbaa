package httptransport

// Request DTOs. Validation tags mirror the constraints the domain enforces
// so obviously bad input is rejected at the edge.

type signUpRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type completeSignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Category string `json:"category" validate:"required,oneof=creator collector"`
	Bio      string `json:"bio" validate:"max=2000"`
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type completeLinkRequest struct {
	Token string `json:"token" validate:"required"`
}

type updateProfileRequest struct {
	DisplayName *string `json:"display_name,omitempty" validate:"omitempty,notblank,max=120"`
	Bio         *string `json:"bio,omitempty" validate:"omitempty,max=2000"`
	Category    *string `json:"category,omitempty" validate:"omitempty,oneof=creator collector"`
}
